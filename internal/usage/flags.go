package usage

import "fmt"

// TimeGapFlag labels a data gap of at least hours.
func TimeGapFlag(hours int) string { return fmt.Sprintf(">%d-HR TIME GAP", hours) }

// AppUsageFlag labels a usage interval of at least hours.
func AppUsageFlag(hours int) string { return fmt.Sprintf(">%d-HR APP USAGE", hours) }

// AddFlags labels each row with the largest gap threshold its data gap meets
// and the largest duration threshold its usage meets. Ladders must be sorted
// in descending order.
func AddFlags(rows []Row, gapLadder, usageLadder []int) {
	for i := range rows {
		row := &rows[i]
		row.Flags = row.Flags[:0]
		if t, ok := firstMet(gapLadder, row.GapHours); ok {
			row.Flags = append(row.Flags, TimeGapFlag(t))
		}
		if row.Duration != nil {
			if t, ok := firstMet(usageLadder, row.Duration.Hours()); ok {
				row.Flags = append(row.Flags, AppUsageFlag(t))
			}
		}
		if len(row.Flags) == 0 {
			row.Flags = nil
		}
	}
}

func firstMet(ladder []int, v float64) (int, bool) {
	for _, t := range ladder {
		if v >= float64(t) {
			return t, true
		}
	}
	return 0, false
}
