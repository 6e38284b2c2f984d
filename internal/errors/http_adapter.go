package errors

import "net/http"

// HTTPStatusFor maps an error to the HTTP status code API handlers should
// respond with. Unclassified errors are treated as internal.
func HTTPStatusFor(err error) int {
	if err == nil {
		return http.StatusOK
	}

	fe, ok := err.(*ForgeError)
	if !ok {
		return http.StatusInternalServerError
	}

	switch fe.Category {
	case CategoryValidation, CategoryConfig:
		return http.StatusBadRequest
	case CategoryNotFound:
		return http.StatusNotFound
	case CategoryBusy:
		return http.StatusConflict
	case CategoryLaunch, CategoryExecution, CategoryArtifact:
		return http.StatusUnprocessableEntity
	case CategoryNetwork, CategoryGit:
		return http.StatusBadGateway
	case CategoryDaemon:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
