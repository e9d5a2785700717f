package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/imaginethisprinted/aistudio/internal/service"
	"github.com/imaginethisprinted/aistudio/internal/wizard"
)

const help = `commands:
  nobg     remove the background of the newest generated image
  skip     create mockups straight from the newest generated image
  mockups  create flat lay and lifestyle mockups
  regen    generate new images from the original prompt
  status   refresh and print the current progress
  done     approve the product (needs two succeeded mockups)
  reset    start over
  quit     leave; running jobs keep going on the server`

func main() {
	var (
		apiURL     string
		prompt     string
		name       string
		category   string
		artStyle   string
		background string
		priceCents int64
		interval   time.Duration
	)
	flag.StringVar(&apiURL, "api", envOr("AISTUDIO_API_URL", "http://localhost:8080"), "admin API base URL")
	flag.StringVar(&prompt, "prompt", "", "product description; asked interactively when empty")
	flag.StringVar(&name, "name", "", "product name (derived from the prompt when empty)")
	flag.StringVar(&category, "category", "", "product category, e.g. mug or t-shirt")
	flag.StringVar(&artStyle, "art-style", "", "realistic, illustration, watercolor, minimalist, vintage or cartoon")
	flag.StringVar(&background, "background", "", "white, transparent, lifestyle or gradient")
	flag.Int64Var(&priceCents, "price", 0, "price in cents")
	flag.DurationVar(&interval, "interval", wizard.DefaultPollInterval, "status poll interval")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	base := service.CreateProductRequest{
		Prompt:     prompt,
		Name:       name,
		Category:   category,
		PriceCents: priceCents,
		Style:      service.StyleInput{ArtStyle: artStyle, Background: background},
	}
	s := &session{
		wiz:  wizard.New(wizard.NewClient(apiURL, nil), interval),
		in:   bufio.NewScanner(os.Stdin),
		out:  os.Stdout,
		base: base,
	}
	if err := s.run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		fmt.Fprintln(os.Stderr, "wizard:", err)
		os.Exit(1)
	}
}

type session struct {
	wiz  *wizard.Wizard
	in   *bufio.Scanner
	base service.CreateProductRequest

	mu  sync.Mutex
	out io.Writer
}

func (s *session) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

func (s *session) render(snap wizard.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wizard.Render(s.out, snap)
}

func (s *session) readLine(prompt string) (string, error) {
	s.printf("%s", prompt)
	if !s.in.Scan() {
		if err := s.in.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSpace(s.in.Text()), nil
}

func (s *session) run(ctx context.Context) error {
	for {
		if err := s.describe(ctx); err != nil {
			return err
		}
		again, err := s.generate(ctx)
		if err != nil || !again {
			return err
		}
	}
}

// describe walks describe -> review -> generate.
func (s *session) describe(ctx context.Context) error {
	req := s.base
	for {
		if strings.TrimSpace(req.Prompt) == "" {
			line, err := s.readLine("describe the product: ")
			if err != nil {
				return err
			}
			req.Prompt = line
		}
		res, err := s.wiz.Describe(ctx, req)
		if err != nil {
			s.printf("create failed: %v\n", err)
			req.Prompt = ""
			continue
		}
		in := res.Interpretation
		s.printf("\nname:     %s\ncategory: %s\nstyle:    %s, %s background\nprompt:   %s\n",
			in.Name, in.Category, in.Style.ArtStyle, in.Style.Background, in.Prompt)

		answer, err := s.readLine("start generating? [Y/n] ")
		if err != nil {
			return err
		}
		if answer == "" || strings.EqualFold(answer, "y") || strings.EqualFold(answer, "yes") {
			return s.wiz.Confirm()
		}
		s.wiz.Reset()
		req = s.base
		req.Prompt = ""
	}
}

// generate polls in the background and executes operator commands. It reports
// whether the operator asked to start over.
func (s *session) generate(ctx context.Context) (bool, error) {
	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		_ = s.wiz.Poll(pollCtx, s.render)
	}()

	s.printf("%s\n", help)
	for {
		cmd, err := s.readLine("> ")
		if err != nil {
			return false, err
		}
		switch strings.ToLower(cmd) {
		case "":
		case "nobg":
			job, err := s.wiz.RemoveBackground(ctx)
			s.report("background removal", err, job != nil)
		case "skip":
			jobs, err := s.wiz.SkipToMockups(ctx)
			s.report("mockups", err, len(jobs) > 0)
		case "mockups":
			jobs, err := s.wiz.CreateMockups(ctx)
			s.report("mockups", err, len(jobs) > 0)
		case "regen":
			job, err := s.wiz.Regenerate(ctx)
			s.report("regeneration", err, job != nil)
		case "status":
			snap, err := s.wiz.Refresh(ctx)
			if err != nil {
				s.printf("refresh failed: %v\n", err)
				continue
			}
			s.render(snap)
		case "done":
			product, err := s.wiz.Finish(ctx)
			if err != nil {
				s.printf("cannot finish yet: %v\n", err)
				continue
			}
			s.printf("product %s is %s with %d images\n", product.ID, product.Status, len(product.Images))
			return false, nil
		case "reset":
			s.wiz.Reset()
			return true, nil
		case "quit", "exit":
			return false, nil
		default:
			s.printf("unknown command %q\n%s\n", cmd, help)
		}
	}
}

func (s *session) report(action string, err error, ok bool) {
	switch {
	case err != nil:
		s.printf("%s failed: %v\n", action, err)
	case ok:
		s.printf("%s queued\n", action)
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
