// Package config loads connection settings for the uploader command.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults); the token defaults to
//     $CRAWLUPLOAD_TOKEN.
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// # JSON schema
//
//	{
//	  "server_url": "https://uploads.example.com",
//	  "token": "...",
//	  "org_id": "org1",
//	  "request_timeout": "10m"
//	}
package config
