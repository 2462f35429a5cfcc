package fs

import "github.com/objfuse/ovfs/internal/storageapi"

// Negated-errno constants used in OutHeader.Error, per spec.md §7. Only
// the handful this server ever returns are named; Linux's numeric
// values are stable across architectures this project targets.
const (
	errENOENT     = 2
	errEIO        = 5
	errEACCES     = 13
	errEEXIST     = 17
	errENOTDIR    = 20
	errEISDIR     = 21
	errEINVAL     = 22
	errEBUSY      = 16
	errENOSYS     = 38
	errEOPNOTSUPP = 95
)

// errnoForBackend maps a storage adapter's classified error to a
// negated errno, per the taxonomy table in spec.md §7.
func errnoForBackend(err error) int32 {
	switch storageapi.KindOf(err) {
	case storageapi.KindNotFound:
		return -errENOENT
	case storageapi.KindUnsupported:
		return -errEOPNOTSUPP
	case storageapi.KindPermissionDenied:
		return -errEACCES
	case storageapi.KindAlreadyExists:
		return -errEEXIST
	case storageapi.KindIsADirectory:
		return -errEISDIR
	case storageapi.KindNotADirectory:
		return -errENOTDIR
	case storageapi.KindRangeNotSatisfied:
		return -errEINVAL
	case storageapi.KindRateLimited:
		return -errEBUSY
	default:
		return -errEIO
	}
}
