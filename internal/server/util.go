package server

import "strconv"

func formatID(id uint64) string {
	return strconv.FormatUint(id, 10)
}
