// Package distance provides the distance kernels used by all vector
// indexes: cosine, euclidean and (negated) dot product.
//
// Every kernel returns a distance where smaller is better, so a single
// ranking rule holds across metrics. Consumers that need a similarity
// flip the sign (or apply a squash) at the boundary. Accumulation
// happens in float64 to keep the kernels stable for dimensions up to
// 10^4 and component magnitudes up to 10^6.
package distance
