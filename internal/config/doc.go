// Package config provides configuration management for the ASRS export job.
// It loads configuration from multiple sources, validates it, and resolves
// the file system paths a run writes to.
//
// # Configuration Sources
//
// Configuration is loaded from the following sources in order of precedence:
//
//	1. Environment variables, including those loaded from a .env file
//	2. A YAML configuration file (config.yaml, configs/config.yaml or ASRS_CONFIG_FILE)
//	3. Default values from struct tags
//
// # Environment Variables
//
// All environment variables follow the pattern ASRS_<SECTION>_<FIELD>:
//
//	ASRS_EXPORT_START_YEAR=1988
//	ASRS_EXPORT_END_YEAR=2024
//	ASRS_EXPORT_SCRATCH_DIR=output/asrs-tmp
//	ASRS_EXPORT_COOLDOWN=5s
//	ASRS_UPLOAD_ENABLED=true
//	ASRS_UPLOAD_CREDENTIALS_FILE=service-account.json
//	ASRS_UPLOAD_FOLDER_ID=1AbCdEf...
//
// GOOGLE_APPLICATION_CREDENTIALS is used when ASRS_UPLOAD_CREDENTIALS_FILE is unset.
//
// # Validation
//
// Every loaded configuration is validated with go-playground/validator.
// Upload credentials are only required when upload is enabled; a missing
// key file or folder id fails Load with a CONFIG error before any export
// work starts.
package config
