package pdo

import "errors"

var (
	errAlignment = errors.New("pdo: mapped bit length is not byte-aligned")
	errNoMap     = errors.New("pdo: sub-object is not mappable or its size differs from the mapped length")
	errTooLong   = errors.New("pdo: mapped total length exceeds the frame payload limit")
)
