package errors

// Convenience functions for common error patterns

// Config errors

func ConfigNotFound(path string) *ForgeError {
	return New(CategoryConfig, SeverityFatal, "configuration file not found").
		WithContext("path", path)
}

func ConfigRequired(field string) *ForgeError {
	return New(CategoryConfig, SeverityFatal, "required configuration missing").
		WithContext("field", field)
}

func ValidationFailed(field, reason string) *ForgeError {
	return New(CategoryValidation, SeverityFatal, "validation failed").
		WithContext("field", field).
		WithContext("reason", reason)
}

// Submission errors

func ProjectNotFound(id string) *ForgeError {
	return New(CategoryNotFound, SeverityWarning, "project not found").
		WithContext("project", id)
}

func UnitNotFound(id string) *ForgeError {
	return New(CategoryNotFound, SeverityWarning, "unit not found").
		WithContext("unit_id", id)
}

func UnknownTarget(target string) *ForgeError {
	return New(CategoryValidation, SeverityWarning, "unknown chip target").
		WithContext("target", target)
}

func ProjectBusy(id string) *ForgeError {
	return Retryable(CategoryBusy, SeverityWarning, "project has a unit in flight").
		WithContext("project", id)
}

// Toolchain process errors

func LaunchFailed(program string, cause error) *ForgeError {
	return Wrap(cause, CategoryLaunch, SeverityError, "toolchain launch failed").
		WithContext("program", program)
}

func ExecutionFailed(exitCode int) *ForgeError {
	return New(CategoryExecution, SeverityError, "toolchain exited with failure").
		WithContext("exit_code", exitCode)
}

func ArtifactResolution(cause error) *ForgeError {
	return Wrap(cause, CategoryArtifact, SeverityError, "artifact resolution failed")
}

// Git errors

func GitCloneError(repo string, cause error) *ForgeError {
	return Wrap(cause, CategoryGit, SeverityFatal, "repository clone failed").
		WithContext("repository", repo)
}

func GitAuthError(repo string, cause error) *ForgeError {
	return Wrap(cause, CategoryGit, SeverityFatal, "git authentication failed").
		WithContext("repository", repo)
}

func GitNetworkError(repo string, cause error) *ForgeError {
	return WrapRetryable(cause, CategoryGit, SeverityWarning, "git network error").
		WithContext("repository", repo)
}

// Infrastructure errors

func StorageError(operation string, cause error) *ForgeError {
	return Wrap(cause, CategoryStorage, SeverityError, "store operation failed").
		WithContext("operation", operation)
}

func InternalError(message string, cause error) *ForgeError {
	return Wrap(cause, CategoryInternal, SeverityFatal, message)
}
