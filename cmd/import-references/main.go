package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"caseanalysis-backend/config"
	"caseanalysis-backend/models"
	"caseanalysis-backend/repository"

	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultChunkChars = 2000

// citationLine matches headings such as "Article 75.", "Art. 12", "§ 3" or "Статья 75"
var citationLine = regexp.MustCompile(`^(?i)(article|art\.|section|§|статья)\s*[0-9]+[^\n]{0,120}$`)

// Reference files are laid out as <dir>/<topic>/<document>.txt; the folder name becomes the topic.
func main() {
	dir := flag.String("dir", "./legal_references", "directory with one sub-folder per topic")
	chunkChars := flag.Int("chunk", defaultChunkChars, "maximum characters per chunk")
	flag.Parse()

	cfg := config.Load()

	pool, err := pgxpool.New(context.Background(), cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	repo := repository.NewLegalReferenceRepository(pool)
	ctx := context.Background()

	files, err := filepath.Glob(filepath.Join(*dir, "*", "*.txt"))
	if err != nil {
		log.Fatalf("Failed to list reference files: %v", err)
	}
	if len(files) == 0 {
		log.Fatalf("No reference files found under %s", *dir)
	}

	total := 0
	for _, path := range files {
		topic := filepath.Base(filepath.Dir(path))
		document := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

		content, err := os.ReadFile(path)
		if err != nil {
			log.Printf("Warning: skipping %s: %v", path, err)
			continue
		}

		removed, err := repo.DeleteBySource(ctx, document)
		if err != nil {
			log.Fatalf("Failed to clear %s: %v", document, err)
		}
		if removed > 0 {
			log.Printf("  replaced %d existing chunks of %s", removed, document)
		}

		chunks := chunkText(string(content), *chunkChars)
		for i, chunk := range chunks {
			ref := &models.LegalReference{
				Topic:          topic,
				SourceDocument: document,
				Citation:       detectCitation(chunk),
				Text:           chunk,
			}
			if err := repo.Insert(ctx, ref, i); err != nil {
				log.Fatalf("Failed to store chunk %d of %s: %v", i, document, err)
			}
		}
		total += len(chunks)
		log.Printf("✓ %s/%s: %d chunks", topic, document, len(chunks))
	}

	log.Printf("Imported %d chunks from %d files", total, len(files))
}

// chunkText splits on blank lines and packs paragraphs into chunks of at most limit characters.
// A single paragraph longer than limit is split on rune boundaries.
func chunkText(text string, limit int) []string {
	if limit <= 0 {
		limit = defaultChunkChars
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var chunks []string
	var current strings.Builder
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		for _, piece := range splitRunes(para, limit) {
			if current.Len() > 0 && len([]rune(current.String()))+2+len([]rune(piece)) > limit {
				flush()
			}
			if current.Len() > 0 {
				current.WriteString("\n\n")
			}
			current.WriteString(piece)
		}
	}
	flush()
	return chunks
}

func splitRunes(s string, limit int) []string {
	runes := []rune(s)
	if len(runes) <= limit {
		return []string{s}
	}
	var out []string
	for len(runes) > limit {
		out = append(out, string(runes[:limit]))
		runes = runes[limit:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}

// detectCitation returns the first line of the chunk when it looks like an article heading
func detectCitation(chunk string) *string {
	first, _, _ := strings.Cut(chunk, "\n")
	first = strings.TrimSpace(first)
	if !citationLine.MatchString(first) {
		return nil
	}
	return &first
}
