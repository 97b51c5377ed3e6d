// Package audio normalizes uploaded recordings for speech recognition.
// It sniffs the container, decodes WAV, MP3 and Ogg Vorbis natively (falling back to an
// ffmpeg subprocess for everything else), mixes all channels down to mono by averaging
// and resamples to the engine's fixed rate with a band-limited windowed-sinc filter.
package audio
