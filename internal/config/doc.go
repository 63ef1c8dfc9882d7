// Package config loads the storegate server configuration.
//
// Configuration comes from an optional YAML file (storegate.yaml by
// default) overlaid with environment variables, then validated. Every
// setting has a STOREGATE_* variable; the variables of the original
// embedded-app template (SHOPIFY_API_KEY, SHOPIFY_API_SECRET, SCOPES, HOST
// and PORT) are accepted as fallbacks so existing deployments keep working.
//
// # Example
//
//	server:
//	  address: ":8081"
//	app:
//	  url: https://storegate.example.com
//	shopify:
//	  apiKey: abc
//	  apiSecret: def
//	  scopes: [read_products, write_products]
//	storage:
//	  driver: sqlite
//	  sqlite:
//	    path: /var/lib/storegate/credentials.db
//	log:
//	  level: info
//	  format: json
package config
