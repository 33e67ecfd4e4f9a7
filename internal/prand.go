package internal

// Prand32 returns the next value of a 32 bit xorshift generator seeded with seed.
// Zero is a fixed point and must not be used as a seed.
func Prand32[T ~uint32](seed T) T {
	seed ^= seed << 13
	seed ^= seed >> 17
	seed ^= seed << 5
	return seed
}
