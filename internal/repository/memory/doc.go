// Package memory holds process-local implementations of the repository
// ports. They apply the same conditional updates as the PostgreSQL
// implementations under one mutex per store and are meant for tests and
// single-node development only.
package memory
