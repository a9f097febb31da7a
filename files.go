/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
)

// humanReadableSize formats a byte count with SI suffixes, e.g. "1.5 kB".
func humanReadableSize(bytes int64) string {
	const suffixes = "kMGTPE"

	if bytes < 1000 {
		return fmt.Sprintf("%d B", bytes)
	}

	size := float64(bytes) / 1000
	i := 0
	for size >= 1000 && i < len(suffixes)-1 {
		size /= 1000
		i++
	}

	return fmt.Sprintf("%.1f %cB", size, suffixes[i])
}
