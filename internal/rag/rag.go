// Package rag retrieves passages from a search workspace or the inventory
// store and builds the prompt that answers a question over them.
package rag

import (
	"context"
	"fmt"
	"strings"

	"filesift/internal/embedder"
	"filesift/internal/llm"
	"filesift/internal/search"
	"filesift/internal/store"
)

const systemPrompt = `You are a document search assistant. You answer questions about a collection of files using the retrieved passages provided below.

Quote or paraphrase the passages and name the file each fact comes from. Keep answers concise and grounded in the provided context. If the context doesn't contain enough information to answer, say so.`

// Passage is a retrieved chunk of a file.
type Passage struct {
	Source   string
	Content  string
	Distance float64
}

// Retriever returns the k passages closest to query, best first.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]Passage, error)
}

// WorkspaceRetriever queries a search pipeline's index.
type WorkspaceRetriever struct {
	Pipeline *search.Pipeline
}

func (r WorkspaceRetriever) Retrieve(ctx context.Context, query string, k int) ([]Passage, error) {
	hits, err := r.Pipeline.Query(ctx, query, k)
	if err != nil {
		return nil, err
	}
	out := make([]Passage, len(hits))
	for i, h := range hits {
		out[i] = Passage{Source: h.FilePath, Content: h.Content, Distance: float64(h.Distance)}
	}
	return out, nil
}

// StoreRetriever runs vector search over the catalogued chunks.
type StoreRetriever struct {
	Store    store.Store
	Embedder embedder.Embedder
}

func (r StoreRetriever) Retrieve(ctx context.Context, query string, k int) ([]Passage, error) {
	vec, err := embedder.EmbedSingle(ctx, r.Embedder, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := r.Store.Search(vec, k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	out := make([]Passage, len(results))
	for i, res := range results {
		out[i] = Passage{Source: res.FilePath, Content: res.Chunk.Content, Distance: res.Distance}
	}
	return out, nil
}

// BuildMessages constructs the message list for the LLM from retrieved
// passages, conversation history, and the current question.
func BuildMessages(passages []Passage, history []llm.Message, question string) []llm.Message {
	msgs := []llm.Message{{Role: "system", Content: systemPrompt}}

	if len(passages) > 0 {
		var ctx strings.Builder
		ctx.WriteString("Here are the relevant passages:\n\n")
		for i, p := range passages {
			fmt.Fprintf(&ctx, "--- Passage %d: %s ---\n", i+1, p.Source)
			ctx.WriteString(p.Content)
			ctx.WriteString("\n\n")
		}
		msgs = append(msgs, llm.Message{Role: "user", Content: ctx.String()})
		msgs = append(msgs, llm.Message{Role: "assistant", Content: "I've read the passages. What would you like to know?"})
	}

	msgs = append(msgs, history...)
	msgs = append(msgs, llm.Message{Role: "user", Content: question})
	return msgs
}

// FormatPassages renders passages as markdown.
func FormatPassages(query string, passages []Passage) string {
	if len(passages) == 0 {
		return fmt.Sprintf("No results found for query: %q", query)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Search results for %q (%d passages)\n\n", query, len(passages))
	for i, p := range passages {
		fmt.Fprintf(&sb, "### Result %d: `%s`\n\n", i+1, p.Source)
		fmt.Fprintf(&sb, "**Distance:** %.4f\n\n", p.Distance)
		fmt.Fprintf(&sb, "```\n%s\n```\n\n", p.Content)
	}
	return sb.String()
}

// Asker answers questions by retrieval followed by generation.
type Asker struct {
	Retriever Retriever
	Chat      *llm.OllamaChat
	K         int
}

// Ask returns the answer and the passages it was grounded on.
func (a Asker) Ask(ctx context.Context, question string, history []llm.Message) (string, []Passage, error) {
	k := a.K
	if k <= 0 {
		k = 5
	}
	passages, err := a.Retriever.Retrieve(ctx, question, k)
	if err != nil {
		return "", nil, fmt.Errorf("retrieval error: %w", err)
	}
	answer, err := a.Chat.Generate(ctx, BuildMessages(passages, history, question))
	if err != nil {
		return "", passages, fmt.Errorf("generation error: %w", err)
	}
	return answer, passages, nil
}
