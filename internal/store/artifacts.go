package store

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
)

// Difficulty levels produced by the enrichment call.
const (
	LevelEasy = "easy"
	LevelMid  = "mid"
	LevelHard = "hard"
)

// Levels is the canonical level order.
var Levels = []string{LevelEasy, LevelMid, LevelHard}

type Summary struct {
	Language   string `db:"language" json:"language"`
	Difficulty string `db:"difficulty" json:"difficulty"`
	Text       string `db:"summary" json:"summary"`
}

type Keyword struct {
	Difficulty  string `db:"difficulty" json:"difficulty"`
	Term        string `db:"term" json:"term"`
	Frequency   int    `db:"frequency" json:"frequency"`
	Explanation string `db:"explanation" json:"explanation,omitempty"`
}

type Question struct {
	ID         int64    `db:"id" json:"-"`
	Difficulty string   `db:"difficulty" json:"difficulty"`
	Text       string   `db:"question" json:"question"`
	Choices    []Choice `db:"-" json:"choices"`
}

type Choice struct {
	QuestionID  int64  `db:"question_id" json:"-"`
	Text        string `db:"choice_text" json:"text"`
	IsCorrect   bool   `db:"is_correct" json:"is_correct"`
	Explanation string `db:"explanation" json:"explanation,omitempty"`
}

type BackgroundReading struct {
	Difficulty string `db:"difficulty" json:"difficulty"`
	Content    string `db:"content" json:"content"`
}

// Comment is one side of the opposing-viewpoint commentary, or the synthesis.
type Comment struct {
	Difficulty string `db:"difficulty" json:"difficulty"`
	Who        string `db:"who" json:"who"`
	Attitude   string `db:"attitude" json:"attitude"`
	Content    string `db:"content" json:"content"`
}

// Artifacts is everything the enrichment call produces for one article.
type Artifacts struct {
	Summaries  []Summary           `json:"summaries"`
	Keywords   []Keyword           `json:"keywords"`
	Questions  []Question          `json:"questions"`
	Background []BackgroundReading `json:"background_reading"`
	Comments   []Comment           `json:"comments"`
}

func (a Artifacts) Empty() bool {
	return len(a.Summaries) == 0 && len(a.Keywords) == 0 && len(a.Questions) == 0 &&
		len(a.Background) == 0 && len(a.Comments) == 0
}

// ReplaceArtifacts writes the artifacts for an article. For every (kind, difficulty) present
// in art the previously stored rows are deleted first, so re-enrichment never duplicates.
// Kinds and levels absent from art are left untouched.
func (s *Store) ReplaceArtifacts(ctx context.Context, articleID string, art Artifacts) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if levels := levelsOf(art.Summaries, func(v Summary) string { return v.Difficulty }); len(levels) > 0 {
		if err := clearLevels(ctx, tx, "article_summaries", articleID, levels); err != nil {
			return err
		}
		for _, v := range art.Summaries {
			if err := insertRow(ctx, tx, sq.Insert("article_summaries").
				Columns("article_id", "language", "difficulty", "summary").
				Values(articleID, v.Language, v.Difficulty, v.Text)); err != nil {
				return err
			}
		}
	}

	if levels := levelsOf(art.Keywords, func(v Keyword) string { return v.Difficulty }); len(levels) > 0 {
		if err := clearLevels(ctx, tx, "keywords", articleID, levels); err != nil {
			return err
		}
		for _, v := range art.Keywords {
			if err := insertRow(ctx, tx, sq.Insert("keywords").
				Columns("article_id", "difficulty", "term", "frequency", "explanation").
				Values(articleID, v.Difficulty, v.Term, v.Frequency, v.Explanation)); err != nil {
				return err
			}
		}
	}

	if levels := levelsOf(art.Questions, func(v Question) string { return v.Difficulty }); len(levels) > 0 {
		choicesQuery, args, err := sq.Delete("choices").
			Where(sq.Expr("question_id IN (SELECT id FROM questions WHERE article_id = ? AND difficulty IN ("+sq.Placeholders(len(levels))+"))",
				append([]any{articleID}, toAny(levels)...)...)).
			ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, choicesQuery, args...); err != nil {
			return fmt.Errorf("clear choices: %w", err)
		}
		if err := clearLevels(ctx, tx, "questions", articleID, levels); err != nil {
			return err
		}
		for _, q := range art.Questions {
			if err := insertQuestion(ctx, tx, articleID, q); err != nil {
				return err
			}
		}
	}

	if levels := levelsOf(art.Background, func(v BackgroundReading) string { return v.Difficulty }); len(levels) > 0 {
		if err := clearLevels(ctx, tx, "background_read", articleID, levels); err != nil {
			return err
		}
		for _, v := range art.Background {
			if err := insertRow(ctx, tx, sq.Insert("background_read").
				Columns("article_id", "difficulty", "content").
				Values(articleID, v.Difficulty, v.Content)); err != nil {
				return err
			}
		}
	}

	if levels := levelsOf(art.Comments, func(v Comment) string { return v.Difficulty }); len(levels) > 0 {
		if err := clearLevels(ctx, tx, "comments", articleID, levels); err != nil {
			return err
		}
		for _, v := range art.Comments {
			if err := insertRow(ctx, tx, sq.Insert("comments").
				Columns("article_id", "difficulty", "who", "attitude", "content").
				Values(articleID, v.Difficulty, v.Who, v.Attitude, v.Content)); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

func insertQuestion(ctx context.Context, tx *sqlx.Tx, articleID string, q Question) error {
	query, args, err := sq.Insert("questions").
		Columns("article_id", "difficulty", "question").
		Values(articleID, q.Difficulty, q.Text).
		Suffix("RETURNING id").ToSql()
	if err != nil {
		return err
	}
	var questionID int64
	if err := tx.QueryRowxContext(ctx, query, args...).Scan(&questionID); err != nil {
		return fmt.Errorf("insert question: %w", err)
	}
	for i, c := range q.Choices {
		if err := insertRow(ctx, tx, sq.Insert("choices").
			Columns("question_id", "article_id", "position", "choice_text", "is_correct", "explanation").
			Values(questionID, articleID, i, c.Text, c.IsCorrect, c.Explanation)); err != nil {
			return err
		}
	}
	return nil
}

func insertRow(ctx context.Context, tx *sqlx.Tx, b sq.InsertBuilder) error {
	query, args, err := b.ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	return nil
}

func clearLevels(ctx context.Context, tx *sqlx.Tx, table, articleID string, levels []string) error {
	query, args, err := sq.Delete(table).
		Where(sq.Eq{"article_id": articleID, "difficulty": levels}).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("clear %s: %w", table, err)
	}
	return nil
}

func levelsOf[T any](rows []T, level func(T) string) []string {
	seen := map[string]bool{}
	var levels []string
	for _, r := range rows {
		l := level(r)
		if !seen[l] {
			seen[l] = true
			levels = append(levels, l)
		}
	}
	return levels
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// LoadArtifacts reads every artifact row stored for an article.
func (s *Store) LoadArtifacts(ctx context.Context, articleID string) (Artifacts, error) {
	var art Artifacts

	if err := s.db.SelectContext(ctx, &art.Summaries,
		`SELECT language, difficulty, summary FROM article_summaries WHERE article_id = ? ORDER BY id`, articleID); err != nil {
		return art, fmt.Errorf("load summaries: %w", err)
	}
	if err := s.db.SelectContext(ctx, &art.Keywords,
		`SELECT difficulty, term, frequency, explanation FROM keywords WHERE article_id = ? ORDER BY id`, articleID); err != nil {
		return art, fmt.Errorf("load keywords: %w", err)
	}
	if err := s.db.SelectContext(ctx, &art.Questions,
		`SELECT id, difficulty, question FROM questions WHERE article_id = ? ORDER BY id`, articleID); err != nil {
		return art, fmt.Errorf("load questions: %w", err)
	}

	var choices []Choice
	if err := s.db.SelectContext(ctx, &choices,
		`SELECT question_id, choice_text, is_correct, explanation FROM choices WHERE article_id = ? ORDER BY question_id, position`, articleID); err != nil {
		return art, fmt.Errorf("load choices: %w", err)
	}
	byQuestion := map[int64][]Choice{}
	for _, c := range choices {
		byQuestion[c.QuestionID] = append(byQuestion[c.QuestionID], c)
	}
	for i := range art.Questions {
		art.Questions[i].Choices = byQuestion[art.Questions[i].ID]
	}

	if err := s.db.SelectContext(ctx, &art.Background,
		`SELECT difficulty, content FROM background_read WHERE article_id = ? ORDER BY id`, articleID); err != nil {
		return art, fmt.Errorf("load background reading: %w", err)
	}
	if err := s.db.SelectContext(ctx, &art.Comments,
		`SELECT difficulty, who, attitude, content FROM comments WHERE article_id = ? ORDER BY id`, articleID); err != nil {
		return art, fmt.Errorf("load comments: %w", err)
	}
	return art, nil
}
