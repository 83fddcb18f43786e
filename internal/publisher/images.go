package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/loqalabs/loqa-podcast/internal/podcast"
	"github.com/panjf2000/ants/v2"
)

// ImageResult is what an ImageJob produced. Image failures never fail a run; they are
// reported as warnings.
type ImageResult struct {
	CoverPath string
	Portraits map[string]string
	Warnings  []string
}

// ImageJob is a running batch of cover and portrait generations.
type ImageJob struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	result ImageResult
}

// Wait blocks until every image task has finished.
func (j *ImageJob) Wait() ImageResult {
	<-j.done
	j.mu.Lock()
	defer j.mu.Unlock()
	res := j.result
	res.Portraits = make(map[string]string, len(j.result.Portraits))
	for k, v := range j.result.Portraits {
		res.Portraits[k] = v
	}
	res.Warnings = append([]string(nil), j.result.Warnings...)
	return res
}

// Cancel aborts outstanding generations. Wait must still be called to join them.
func (j *ImageJob) Cancel() {
	j.cancel()
}

func (j *ImageJob) warn(msg string) {
	j.mu.Lock()
	j.result.Warnings = append(j.result.Warnings, msg)
	j.mu.Unlock()
}

// StartImages generates the cover and one portrait per person on a bounded worker pool.
func (p *Publisher) StartImages(ctx context.Context, meta podcast.Metadata, podcastID string) *ImageJob {
	jobCtx, cancel := context.WithCancel(ctx)
	job := &ImageJob{
		cancel: cancel,
		done:   make(chan struct{}),
		result: ImageResult{Portraits: map[string]string{}},
	}
	if p.images == nil {
		close(job.done)
		return job
	}

	pool, err := ants.NewPool(p.opts.ImageConcurrency, ants.WithPanicHandler(func(r interface{}) {
		p.log.Error("image task panicked", slog.Any("panic", r))
	}))
	if err != nil {
		job.warn(fmt.Sprintf("image pool unavailable: %v", err))
		close(job.done)
		return job
	}

	var wg sync.WaitGroup
	submit := func(label string, fn func()) {
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					job.warn(fmt.Sprintf("%s panicked: %v", label, r))
					panic(r)
				}
			}()
			fn()
		}); err != nil {
			wg.Done()
			job.warn(fmt.Sprintf("%s: %v", label, err))
		}
	}

	submit("cover image", func() {
		path, err := p.renderImage(jobCtx, coverPrompt(meta), p.opts.CoverBucket, podcastID+".png")
		if err != nil {
			job.warn(fmt.Sprintf("cover image: %v", err))
			return
		}
		job.mu.Lock()
		job.result.CoverPath = path
		job.mu.Unlock()
	})
	for _, person := range meta.People {
		person := person
		submit("portrait "+person.ID, func() {
			key := fmt.Sprintf("%s/%s.png", podcastID, person.ID)
			path, err := p.renderImage(jobCtx, portraitPrompt(person), p.opts.AuthorBucket, key)
			if err != nil {
				job.warn(fmt.Sprintf("portrait for %s: %v", person.Name, err))
				return
			}
			job.mu.Lock()
			job.result.Portraits[person.ID] = path
			job.mu.Unlock()
		})
	}

	go func() {
		wg.Wait()
		pool.Release()
		cancel()
		close(job.done)
	}()
	return job
}

func (p *Publisher) renderImage(ctx context.Context, prompt, bucket, key string) (string, error) {
	data, err := p.images.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	path, err := p.upload(ctx, bucket, key, data, "image/png")
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	return path, nil
}

func coverPrompt(meta podcast.Metadata) string {
	var people strings.Builder
	for i, person := range meta.People {
		role := "guest"
		if person.Interviewer {
			role = "host"
		}
		fmt.Fprintf(&people, "%d. %s is from %s, is a %s and is a %s in the podcast.\n",
			i+1, person.Name, person.Locale, person.Gender, role)
	}
	return fmt.Sprintf(`Generate a podcast cover image for the podcast titled %q.
Description of the podcast is:
%s

People involved in the podcast are:
%s
Additionally, include images of the people in the podcast.

The image should be colorful and engaging, square, in the format of a podcast cover.
Use abstract art and design elements to create a visually appealing image.`,
		meta.Title, meta.Description, people.String())
}

func portraitPrompt(person podcast.Person) string {
	return fmt.Sprintf(`Generate an image of %s from %s who is a %s.

The image should be in the format of a square.
Make sure that the image resembles a real-looking person, NOT a cartoon or an avatar.
Keep the image clean and professional and high quality.`,
		person.Name, person.Locale, person.Gender)
}
