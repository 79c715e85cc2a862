// Package demux splits H.264 and H.265 Annex B byte streams into NAL units
// and access units. It provides the raw-stream [AccessUnitParser] used by
// the transcoding pipeline, codec detection via [Probe], and the SPS parsers
// used to report input and output resolution.
package demux
