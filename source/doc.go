// Package source provides built-in partition source implementations.
//
// Partition sources discover the partitions of the change feed so the
// controller can create a lease for each new partition and delete the leases
// of vanished ones. The package includes:
//
//   - Static: Fixed list of partition tokens
//
// The feed implementations (feed/memory, feed/jsfeed) are partition sources
// themselves. Custom sources can be implemented by satisfying the
// types.PartitionSource interface.
package source
