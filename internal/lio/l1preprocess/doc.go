// Package l1preprocess normalises raw sensor clouds into the canonical
// point type. Each sensor variant contributes a per-point timing
// extractor; the output of every variant is the same dense, stride
// subsampled, blind-zone filtered Frame.
package l1preprocess
