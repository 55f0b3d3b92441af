package captcha

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"

	"github.com/tidwall/gjson"
)

var solutionRe = regexp.MustCompile(`^[a-zA-Z0-9.\-_]+$`)

// Solvium uses the task/status REST API with a bearer key.
type Solvium struct {
	key  string
	opts Options
}

func NewSolvium(key string, opts Options) *Solvium {
	return &Solvium{key: key, opts: opts.withDefaults("https://captcha.solvium.io/api/v1")}
}

func (s *Solvium) header() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+s.key)
	return h
}

func (s *Solvium) Solve(ctx context.Context, siteKey, pageURL string) (string, error) {
	id, err := s.createTask(ctx, siteKey, pageURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsolvable, err)
	}
	s.opts.logf("solvium task %s", id)
	token, err := s.poll(ctx, id)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsolvable, err)
	}
	return token, nil
}

func (s *Solvium) createTask(ctx context.Context, siteKey, pageURL string) (string, error) {
	q := url.Values{}
	q.Set("url", pageURL)
	q.Set("sitekey", siteKey)
	body, status, err := get(ctx, s.opts.HTTP, s.opts.BaseURL+"/task/turnstile?"+q.Encode(), s.header())
	if err != nil {
		return "", err
	}
	res := gjson.ParseBytes(body)
	id := res.Get("task_id").String()
	if status >= 400 || res.Get("message").String() != "Task created" || id == "" {
		return "", fmt.Errorf("create task: status %d: %s", status, string(body))
	}
	return id, nil
}

func (s *Solvium) poll(ctx context.Context, id string) (string, error) {
	for i := 0; i < s.opts.MaxPolls; i++ {
		body, _, err := get(ctx, s.opts.HTTP, s.opts.BaseURL+"/task/status/"+url.PathEscape(id), s.header())
		if err != nil {
			return "", err
		}
		res := gjson.ParseBytes(body)
		switch res.Get("status").String() {
		case "completed":
			sol := res.Get("result.solution").String()
			if sol == "" {
				return "", fmt.Errorf("completed without solution: %s", string(body))
			}
			if !solutionRe.MatchString(sol) {
				return "", fmt.Errorf("invalid solution format")
			}
			return sol, nil
		case "running", "pending":
			if err := sleepCtx(ctx, s.opts.PollInterval); err != nil {
				return "", err
			}
		default:
			return "", fmt.Errorf("task %s: %s", id, string(body))
		}
	}
	return "", fmt.Errorf("no result after %d polls", s.opts.MaxPolls)
}
