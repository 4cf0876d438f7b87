package domain

import "time"

// QuestionType enumerates the platform's question kinds. The raw platform
// names are kept verbatim because they participate in fingerprint derivation.
type QuestionType string

const (
	MultipleChoice       QuestionType = "multiple_choice_question"
	TrueFalse            QuestionType = "true_false_question"
	ShortAnswer          QuestionType = "short_answer_question"
	FillInMultipleBlanks QuestionType = "fill_in_multiple_blanks_question"
	MultipleAnswers      QuestionType = "multiple_answers_question"
	MultipleDropdowns    QuestionType = "multiple_dropdowns_question"
	Matching             QuestionType = "matching_question"
	Numerical            QuestionType = "numerical_question"
	Calculated           QuestionType = "calculated_question"
	Essay                QuestionType = "essay_question"
)

// TextSource tags where a question's text was obtained. It is an input to the
// quality scorer, not ranked data in its own right.
type TextSource string

const (
	SourcePage        TextSource = "page"        // scraped from the rendered page
	SourceAPI         TextSource = "api"         // fetched from the platform API
	SourcePlaceholder TextSource = "placeholder" // synthesized stand-in text
)

// Outcome is the tri-state grading result of a submission.
type Outcome string

const (
	OutcomeCorrect   Outcome = "correct"
	OutcomeIncorrect Outcome = "incorrect"
	OutcomePartial   Outcome = "partial"
)

// Question is a logical question identified by its fingerprint. The
// fingerprint may change over the record's lifetime when higher-quality text
// supersedes the stored text; that transition happens only through a merge.
type Question struct {
	Fingerprint      string       `json:"fingerprint"`
	Text             string       `json:"text"`
	Type             QuestionType `json:"type"`
	Options          []string     `json:"options,omitempty"`
	QualityScore     int          `json:"qualityScore"`
	TextSource       TextSource   `json:"textSource"`
	NativeQuestionID string       `json:"nativeQuestionId"`
	FirstSeenContext string       `json:"firstSeenContext"`
	UpdatedAt        time.Time    `json:"updatedAt"`
}

// Submission records a single observed answer event. Submissions are append
// only; a merge re-points them to a new fingerprint but never rewrites the
// payload.
type Submission struct {
	ID                  string         `json:"id"`
	QuestionFingerprint string         `json:"questionFingerprint"`
	NativeQuestionID    string         `json:"nativeQuestionId"`
	AttemptContext      string         `json:"attemptContext"`
	AnswerText          string         `json:"answerText"`
	AnswerFields        map[string]any `json:"answerFields,omitempty"`
	Outcome             Outcome        `json:"outcome"`
	PointsEarned        float64        `json:"pointsEarned"`
	PointsPossible      float64        `json:"pointsPossible"`
	ObservedAt          time.Time      `json:"observedAt"`
}

// BestAnswer is the highest-confidence answer seen so far for one fingerprint.
type BestAnswer struct {
	AnswerText      string         `json:"answerText"`
	AnswerFields    map[string]any `json:"answerFields,omitempty"`
	ConfidenceScore float64        `json:"confidenceScore"`
	SubmissionID    string         `json:"submissionId"`
	ObservedAt      time.Time      `json:"observedAt"`
}

// ObservedQuestion is one question/answer observation handed over by the
// capture client. Answer fields are opaque beyond being copied verbatim.
type ObservedQuestion struct {
	Text             string         `json:"text"`
	Type             QuestionType   `json:"type"`
	Options          []string       `json:"options,omitempty"`
	NativeQuestionID string         `json:"nativeQuestionId"`
	TextSource       TextSource     `json:"textSource"`
	AnswerText       string         `json:"answerText"`
	AnswerFields     map[string]any `json:"answerFields,omitempty"`
	Outcome          Outcome        `json:"outcome"`
	PointsEarned     float64        `json:"pointsEarned"`
	PointsPossible   float64        `json:"pointsPossible"`
	ObservedAt       time.Time      `json:"observedAt"`
}

// MergeAction labels what a merge plan decided.
type MergeAction string

const (
	MergeKeepExisting  MergeAction = "keep_existing"
	MergeUpdateInPlace MergeAction = "update_in_place"
	MergeRepoint       MergeAction = "merge"
)

// MergeDecision is the outcome of comparing a candidate capture against the
// stored record for the same logical question.
type MergeDecision struct {
	Action         MergeAction
	OldFingerprint string
	NewFingerprint string
	QualityScore   int
}

// CaptureReport summarizes one processed batch.
type CaptureReport struct {
	AttemptContext string   `json:"attemptContext"`
	Captured       int      `json:"captured"`
	Merged         int      `json:"merged"`
	BestUpdated    int      `json:"bestUpdated"`
	Skipped        int      `json:"skipped"`
	Errors         []string `json:"errors,omitempty"`
}
