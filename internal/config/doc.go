// Package config defines configuration structures for the imgwarm CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (IMGWARM_ prefix)
//   - YAML configuration file
//
// Sizes accept human strings ("50MiB", "1GB") and durations accept Go
// duration strings plus whole days ("60d").
//
// # Example
//
//	cache: s3://my-bucket?region=eu-west-1
//	concurrency: 6
//	max_image_size: 50MiB
//	max_cache_age: 60d
//	max_cache_size: 500MiB
//	retry:
//	  attempts: 3
//	  backoff: 500ms
//	log:
//	  level: info
//	  format: json
package config
