package app

import (
	"fmt"

	"cyberguard-progress-service/internal/domain"
)

// GradeResult is the outcome of grading one submission. Answers follow question order.
type GradeResult struct {
	Answers        []domain.AnswerResult
	TotalQuestions int
	CorrectAnswers int
	PointsEarned   int
	Score          int
}

// Grade scores answers against the canonical questions. Skipped questions are
// incorrect with SelectedAnswer -1, answers to unknown questions are ignored,
// and the first answer wins when a question is answered twice.
func Grade(questions []domain.Question, answers []domain.Answer) (GradeResult, error) {
	if len(questions) == 0 {
		return GradeResult{}, fmt.Errorf("%w: module has no questions", domain.ErrCorruptModule)
	}

	byQuestion := make(map[string]domain.Answer, len(answers))
	for _, a := range answers {
		if _, seen := byQuestion[a.QuestionID]; !seen {
			byQuestion[a.QuestionID] = a
		}
	}

	res := GradeResult{
		Answers:        make([]domain.AnswerResult, 0, len(questions)),
		TotalQuestions: len(questions),
	}
	for _, q := range questions {
		if q.CorrectAnswer < 0 || q.CorrectAnswer >= len(q.Options) {
			return GradeResult{}, fmt.Errorf("%w: question %s has correct answer %d of %d options",
				domain.ErrCorruptModule, q.ID, q.CorrectAnswer, len(q.Options))
		}
		a, ok := byQuestion[q.ID]
		if !ok {
			res.Answers = append(res.Answers, domain.AnswerResult{QuestionID: q.ID, SelectedAnswer: -1})
			continue
		}
		r := domain.AnswerResult{
			QuestionID:     q.ID,
			SelectedAnswer: a.SelectedAnswer,
			IsCorrect:      a.SelectedAnswer == q.CorrectAnswer,
			TimeSpent:      a.TimeSpent,
		}
		if r.IsCorrect {
			r.PointsEarned = q.Points
			res.CorrectAnswers++
			res.PointsEarned += q.Points
		}
		res.Answers = append(res.Answers, r)
	}
	res.Score = percent(res.CorrectAnswers, res.TotalQuestions)
	return res, nil
}

// percent is round(part/whole*100) with halves rounded up, in integer math.
func percent(part, whole int) int {
	if whole <= 0 {
		return 0
	}
	return (part*200 + whole) / (whole * 2)
}

// ValidateSubmission checks payload shape against the module before grading.
func ValidateSubmission(m domain.Module, answers []domain.Answer, duration int) error {
	verr := &domain.ValidationError{}
	if len(answers) == 0 {
		verr.Add("answers", "at least one answer is required")
	}
	if duration < 0 {
		verr.Add("duration", "must be >= 0")
	}
	optionCount := make(map[string]int, len(m.Questions))
	for _, q := range m.Questions {
		optionCount[q.ID] = len(q.Options)
	}
	for i, a := range answers {
		field := fmt.Sprintf("answers[%d]", i)
		if a.QuestionID == "" {
			verr.Add(field+".questionId", "is required")
		}
		if a.SelectedAnswer < 0 {
			verr.Add(field+".selectedAnswer", "must be >= 0")
		} else if n, ok := optionCount[a.QuestionID]; ok && a.SelectedAnswer >= n {
			verr.Add(field+".selectedAnswer", "must be < %d", n)
		}
		if a.TimeSpent < 0 {
			verr.Add(field+".timeSpent", "must be >= 0")
		}
	}
	return verr.OrNil()
}
