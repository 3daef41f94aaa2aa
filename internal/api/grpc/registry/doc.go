// Package registry exposes the dedup registry over gRPC.
//
// The service is described by hand (ServiceDesc) and exchanges protobuf
// well-known types, so no generated stubs are needed: Lookup takes a
// google.protobuf.Struct with "type" and "key" string fields and answers with
// a google.protobuf.StringValue holding the retrieval locator, empty when the
// key is not hosted.
package registry
