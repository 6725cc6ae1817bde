package audio

// Drain reads from ch until it is closed. Use it to release a producer whose
// output is no longer wanted, such as the audio of an interrupted reply.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
