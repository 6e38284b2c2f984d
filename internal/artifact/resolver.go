package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Well-known flash layout. Binaries the toolchain manifest does not place
// fall back to these offsets by file name, then to the application slot.
const (
	OffsetBootloader     = 0x1000
	OffsetPartitionTable = 0x8000
	OffsetApplication    = 0x10000
)

var wellKnownOffsets = map[string]uint32{
	"bootloader.bin":      OffsetBootloader,
	"partition-table.bin": OffsetPartitionTable,
}

// FlasherArgsFile is the offset manifest the toolchain writes into the
// build directory.
const FlasherArgsFile = "flasher_args.json"

// ManifestFile is the flash manifest this resolver emits.
const ManifestFile = "flash_manifest.json"

// Options parameterize resolution; everything is optional except the
// project name used in the manifest.
type Options struct {
	ProjectName string
	Version     string
	ChipFamily  string
}

// flasherArgs is the subset of the toolchain's offset manifest we consume.
type flasherArgs struct {
	FlashFiles map[string]string `json:"flash_files"` // hex offset -> relative path
}

// Resolve inspects a build directory, assigns offsets, writes the flash
// manifest, and returns everything it found. Apart from the manifest file
// it performs no writes and runs no subprocesses.
func Resolve(buildDir string, opts Options) (*Resolution, error) {
	info, err := os.Stat(buildDir)
	if err != nil {
		return nil, fmt.Errorf("build directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("build directory %s is not a directory", buildDir)
	}

	// Offset assignments from the toolchain manifest take priority.
	placed, err := readFlasherArgs(buildDir)
	if err != nil {
		return nil, err
	}

	artifacts := make([]Artifact, 0, len(placed)+4)
	seen := map[string]bool{}

	for rel, offset := range placed {
		full := filepath.Join(buildDir, filepath.FromSlash(rel))
		stat, err := os.Stat(full)
		if err != nil {
			return nil, fmt.Errorf("binary %s named by %s: %w", rel, FlasherArgsFile, err)
		}
		artifacts = append(artifacts, Artifact{
			Name:   filepath.Base(rel),
			Path:   filepath.ToSlash(rel),
			Offset: offset,
			Size:   stat.Size(),
		})
		seen[filepath.ToSlash(rel)] = true
	}

	// Top-level binaries the toolchain manifest did not place.
	entries, err := os.ReadDir(buildDir)
	if err != nil {
		return nil, fmt.Errorf("read build directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".bin") {
			continue
		}
		if seen[entry.Name()] {
			continue
		}
		stat, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", entry.Name(), err)
		}
		offset, ok := wellKnownOffsets[entry.Name()]
		if !ok {
			offset = OffsetApplication
		}
		artifacts = append(artifacts, Artifact{
			Name:   entry.Name(),
			Path:   entry.Name(),
			Offset: offset,
			Size:   stat.Size(),
		})
	}

	if len(artifacts) == 0 {
		return nil, fmt.Errorf("no flashable binaries in %s", buildDir)
	}

	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].Offset < artifacts[j].Offset })

	parts := make([]Part, len(artifacts))
	for i, a := range artifacts {
		parts[i] = Part{Path: a.Path, Offset: a.Offset}
	}

	resolution := &Resolution{
		Artifacts: artifacts,
		Manifest: Manifest{
			Name:    opts.ProjectName,
			Version: opts.Version,
			Builds:  []Build{{ChipFamily: opts.ChipFamily, Parts: parts}},
		},
		ManifestPath: filepath.Join(buildDir, ManifestFile),
		ResolvedAt:   time.Now(),
	}

	if err := writeManifest(resolution.ManifestPath, &resolution.Manifest); err != nil {
		return nil, err
	}

	return resolution, nil
}

func readFlasherArgs(buildDir string) (map[string]uint32, error) {
	data, err := os.ReadFile(filepath.Join(buildDir, FlasherArgsFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", FlasherArgsFile, err)
	}

	var args flasherArgs
	if err := json.Unmarshal(data, &args); err != nil {
		return nil, fmt.Errorf("parse %s: %w", FlasherArgsFile, err)
	}

	placed := make(map[string]uint32, len(args.FlashFiles))
	for hexOffset, rel := range args.FlashFiles {
		offset, err := strconv.ParseUint(hexOffset, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("parse offset %q in %s: %w", hexOffset, FlasherArgsFile, err)
		}
		placed[rel] = uint32(offset)
	}
	return placed, nil
}

func writeManifest(path string, manifest *Manifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// ReadManifest loads a previously written flash manifest from a build
// directory.
func ReadManifest(buildDir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(buildDir, ManifestFile))
	if err != nil {
		return nil, err
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &manifest, nil
}
