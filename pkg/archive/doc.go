// Package archive stores terminal jobs before the tracker purges them.
//
// S3Archiver writes each sweep as one zstd compressed JSON lines object;
// Decode reads such an object back. Discard is used when archiving is
// disabled.
package archive
