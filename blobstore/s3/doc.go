// Package s3 stores pagedb blobs in Amazon S3.
//
// # Usage
//
//	cfg, err := config.LoadDefaultConfig(ctx)
//	store := s3.NewStore(awss3.NewFromConfig(cfg), "my-bucket", "indexes/orders")
//
// S3 has no compare-and-swap on object writes. Deployments with more than one
// writer per prefix wrap the store in a DDBCommitStore, which moves the
// CURRENT pointer into a DynamoDB table guarded by conditional puts.
//
// # Features
//
//   - Range reads for page fetches
//   - Multipart uploads for large blobs
//   - CRC32C checksums on single-shot puts
//   - Automatic pagination for listing
package s3
