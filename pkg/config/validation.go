package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/blkcp/blkcp/internal/bytesize"
	"github.com/blkcp/blkcp/pkg/endpoint"
	"github.com/blkcp/blkcp/pkg/engine"
)

// Validate checks the configuration for invalid values.
//
// Struct tags cover enumerations and ranges; rules that need arithmetic
// or depend on another field are checked by hand. Returns the first
// problem found.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return err
	}

	if err := validateBlockSize(cfg.Copy.BlockSize); err != nil {
		return err
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen is required when metrics are enabled")
	}
	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint is required when telemetry is enabled")
	}

	return nil
}

// validateBlockSize enforces the block size constraints: positive, sector
// granular (direct I/O requires it) and no larger than the engine cap.
func validateBlockSize(size bytesize.ByteSize) error {
	// A negative file value arrives wrapped around through the unsigned
	// decode, so check the signed view.
	if size.Int64() <= 0 {
		return fmt.Errorf("copy.block_size must be positive")
	}
	if !size.IsMultipleOf(endpoint.SectorSize) {
		return fmt.Errorf("copy.block_size %s is not a multiple of %d bytes",
			size, endpoint.SectorSize)
	}
	if size.Int() > engine.MaxBlockSize {
		return fmt.Errorf("copy.block_size %s exceeds the maximum of %s",
			size, bytesize.ByteSize(engine.MaxBlockSize))
	}
	return nil
}
