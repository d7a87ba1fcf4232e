package store

import "codeberg.org/mutker/beamlog/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidDBPath = errors.ErrorCode("store_invalid_db_path")

	// Schema Errors
	ErrSchemaInitFailed       = errors.ErrorCode("store_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("store_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("store_schema_migration_failed")
	ErrTransactionFailed      = errors.ErrorCode("store_transaction_failed")

	// Storage Errors
	ErrStorageInit  = errors.ErrInitFailed
	ErrStorageClose = errors.ErrShutdownFailed
	ErrQueryFailed  = errors.ErrorCode("store_query_failed")

	// Record Errors
	ErrInvalidRecord   = errors.ErrorCode("store_invalid_record")
	ErrUnsupportedType = errors.ErrorCode("store_unsupported_field_type")
	ErrClosed          = errors.ErrorCode("store_closed")

	// Operation Errors
	ErrOperationTimeout = errors.ErrTimeout
)
