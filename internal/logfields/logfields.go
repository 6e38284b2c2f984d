package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyUnitID     = "unit_id"
	KeyProject    = "project"
	KeyOp         = "op"
	KeyTarget     = "target"
	KeyStream     = "stream"
	KeyPhase      = "phase"
	KeyExitCode   = "exit_code"
	KeyDurationMS = "duration_ms"
	KeySchedule   = "schedule_name"
	KeyPath       = "path"
	KeyURL        = "url"
	KeyMethod     = "method"
	KeyStatus     = "status"
	KeyRemoteAddr = "remote_addr"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func UnitID(id string) slog.Attr      { return slog.String(KeyUnitID, id) }
func Project(id string) slog.Attr     { return slog.String(KeyProject, id) }
func Op(op string) slog.Attr          { return slog.String(KeyOp, op) }
func Target(t string) slog.Attr       { return slog.String(KeyTarget, t) }
func Stream(s string) slog.Attr       { return slog.String(KeyStream, s) }
func Phase(name string) slog.Attr     { return slog.String(KeyPhase, name) }
func ExitCode(code int) slog.Attr     { return slog.Int(KeyExitCode, code) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func ScheduleName(n string) slog.Attr { return slog.String(KeySchedule, n) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func URL(u string) slog.Attr          { return slog.String(KeyURL, u) }
func Method(m string) slog.Attr       { return slog.String(KeyMethod, m) }
func Status(code int) slog.Attr       { return slog.Int(KeyStatus, code) }
func RemoteAddr(a string) slog.Attr   { return slog.String(KeyRemoteAddr, a) }

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
