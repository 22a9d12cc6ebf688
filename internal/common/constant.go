package common

const (
	OneK = 1 << 10
	OneM = 1 << 20

	// SliceSize is the length of the leading slice hashed separately for
	// rapid-upload fingerprints. The value is part of the hash-link wire
	// contract shared with other clients.
	SliceSize = 256 * OneK
)
