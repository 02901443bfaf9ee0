// Formats byte amounts for run summaries and the archive size report
package byteshuman

import (
	"fmt"
)

const (
	B  = 1
	KB = 1024 * B
	MB = 1024 * KB
	GB = 1024 * MB
	TB = 1024 * GB
)

func Humanize(num int64) string {
	switch {
	case num >= TB:
		return fmt.Sprintf("%.2f TB", float64(num)/TB)
	case num >= GB:
		return fmt.Sprintf("%.2f GB", float64(num)/GB)
	case num >= MB:
		return fmt.Sprintf("%.2f MB", float64(num)/MB)
	case num >= KB:
		return fmt.Sprintf("%.2f KB", float64(num)/KB)
	default:
		return fmt.Sprintf("%d B", num)
	}
}
