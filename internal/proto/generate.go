// Package proto holds the protobuf messages and gRPC stubs of the
// gatekeeper.v1.AuthService API.
package proto

//go:generate protoc --go_out=. --go_opt=paths=source_relative --go-grpc_out=. --go-grpc_opt=paths=source_relative gatekeeper.proto
