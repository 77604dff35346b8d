package rpc

// hashConstant is the multiplier of the 65599 string hash.
const hashConstant = 65599

// ID returns the pw_rpc identifier for a service or method name: the 65599
// hash seeded with the name length, computed modulo 2^32. Services are
// identified by their fully qualified name, methods by their bare name.
func ID(name string) uint32 {
	hash := uint32(len(name))
	coefficient := uint32(hashConstant)
	for i := 0; i < len(name); i++ {
		hash += coefficient * uint32(name[i])
		coefficient *= hashConstant
	}
	return hash
}
