package utils

// FNV-1a 32 bit; хватает для распределения по шардам и страйпам
const (
	fnvOffset32 = 2166136261
	fnvPrime32  = 16777619
)

// FNVHash - inline FNV-1a без аллокаций (hash/fnv требует []byte)
func FNVHash(s string) uint32 {
	h := uint32(fnvOffset32)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime32
	}
	return h
}
