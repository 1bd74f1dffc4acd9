package stream

// Segment splits stuffed into flits of maxPayload bytes. The last flit is
// always shorter than maxPayload; when len(stuffed) is a multiple of
// maxPayload (including zero) an empty terminator flit is appended so the
// receiver can still detect the end of the message.
func Segment(stuffed []byte, maxPayload int) [][]byte {
	flits := make([][]byte, 0, FlitCount(len(stuffed), maxPayload))
	for start := 0; start < len(stuffed); start += maxPayload {
		end := min(start+maxPayload, len(stuffed))
		flits = append(flits, stuffed[start:end:end])
	}
	if len(stuffed)%maxPayload == 0 {
		flits = append(flits, []byte{})
	}
	return flits
}

// FlitCount returns how many flits Segment produces for n stuffed bytes.
func FlitCount(n, maxPayload int) int {
	return n/maxPayload + 1
}

// IsTerminal reports whether flit ends a message.
func IsTerminal(flit []byte, maxPayload int) bool {
	return len(flit) < maxPayload
}
