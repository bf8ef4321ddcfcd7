package store

import "fmt"

// buildPersonFilter returns a parameterized WHERE fragment matching
// `person = name` OR any of the three comma-separated positions a
// multi-assignment item's person string can hold, plus the four
// positional args for it, starting at startArg ($N). This is how
// "Colin, Henry" surfaces under either child's dashboard view.
func buildPersonFilter(name string, startArg int) (string, []interface{}) {
	exact := fmt.Sprintf("$%d", startArg)
	prefix := fmt.Sprintf("$%d", startArg+1)
	suffix := fmt.Sprintf("$%d", startArg+2)
	middle := fmt.Sprintf("$%d", startArg+3)

	clause := fmt.Sprintf(
		"person = %s OR person LIKE %s OR person LIKE %s OR person LIKE %s",
		exact, prefix, suffix, middle,
	)
	args := []interface{}{
		name,
		name + ", %",
		"%, " + name,
		"%, " + name + ", %",
	}
	return clause, args
}
