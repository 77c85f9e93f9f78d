// Package config loads the application configuration.
//
// # Configuration Sources
//
// Values are resolved in this order, later sources winning:
//
//	1. Default() values
//	2. A YAML file (--config, or config.yaml / configs/config.yaml)
//	3. Environment variables with the MMM_ prefix
//
// # Environment Variables
//
// Variables follow the section/field layout of the YAML file:
//
//	MMM_SERVER_PORT=8080
//	MMM_LOGGING_LEVEL=debug
//	MMM_MODEL_NAME=carryover
//	MMM_MODEL_NUMBER_SAMPLES=2000
//	MMM_DATA_MEDIA=tv,radio,search
//	MMM_OPTIMIZATION_PRICES=1,1,0.5
//	MMM_STORE_BACKEND=redis
//
// Custom priors can only be set in the YAML file:
//
//	model:
//	  custom_priors:
//	    intercept: {distribution: half_normal, params: [3]}
//
// # Validation
//
// Load validates field ranges with struct tags plus a few cross-field
// rules. Every failure wraps ErrInvalidConfig. ValidateForRun also requires
// the data source and column mapping used by the CLI.
package config
