package sighook

// serialize executes CPUID. Stores to code are snooped on x86, but a
// serializing instruction is still needed before this core runs them.
func serialize()

func flushICache([]byte) { serialize() }
