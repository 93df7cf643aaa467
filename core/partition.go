package core

type Partitioned struct {
	Pending []Entry
	Done    []Entry
}

// Partition splits entries by state. Anything that is not exactly Pending is
// treated as done.
func Partition(entries []Entry) Partitioned {
	out := Partitioned{
		Pending: []Entry{},
		Done:    []Entry{},
	}
	for _, entry := range entries {
		if entry.IsPending() {
			out.Pending = append(out.Pending, entry)
			continue
		}
		out.Done = append(out.Done, entry)
	}
	return out
}
