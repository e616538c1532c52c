package app

import "selfquiz/internal/domain"

// Grade scores the attempted items only, as a percentage in [0,100].
// Items without an answer do not count against the score.
func Grade(items []domain.Item, answers map[string]string) int {
	attempted, correct := 0, 0
	for _, item := range items {
		chosen, ok := answers[item.ID]
		if !ok {
			continue
		}
		attempted++
		for _, opt := range item.Options {
			if opt.ID == chosen && opt.Correct {
				correct++
				break
			}
		}
	}
	if attempted == 0 {
		return 0
	}
	return correct * 100 / attempted
}
