// Package containers starts Docker-backed dependencies for integration tests
// using testcontainers-go:
//
//   - MySQL 8.0 for the gorm repositories
//   - Eclipse Mosquitto for the in-app MQTT channel
//
// Tests using this package carry the "integration" build tag:
//
//	//go:build integration
//
//	go test -tags=integration ./...
package containers
