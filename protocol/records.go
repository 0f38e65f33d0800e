package protocol

// Records is a batch of payloads or complete frames. The transport writes a
// batch with one vectored write.
type Records [][]byte

func (recs Records) TotalLen() (total int64) {
	for _, r := range recs {
		total += int64(len(r))
	}
	return
}
