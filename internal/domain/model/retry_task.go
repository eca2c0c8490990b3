package model

import "time"

// RetryTask schedules one more sign-in attempt for an account. Tasks created
// together share a WaveID and fire on the same tick.
type RetryTask struct {
	ID            string
	WaveID        string
	AccountID     int64
	AttemptNumber int
	NotBefore     time.Time
	CreatedAt     time.Time
}

func (t RetryTask) Due(now time.Time) bool {
	return !now.Before(t.NotBefore)
}

// GroupByWave keeps the first-seen order of waves.
func GroupByWave(tasks []RetryTask) [][]RetryTask {
	index := make(map[string]int)
	var waves [][]RetryTask
	for _, t := range tasks {
		i, ok := index[t.WaveID]
		if !ok {
			i = len(waves)
			index[t.WaveID] = i
			waves = append(waves, nil)
		}
		waves[i] = append(waves[i], t)
	}
	return waves
}
