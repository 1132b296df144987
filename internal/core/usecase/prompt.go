package usecase

import (
	"fmt"
	"strings"

	"github.com/avolkova/enterprise-search/internal/core/domain"
)

const answerSystemInstructions = `You are an AI assistant helping employees find information from company documents.
Your role is to provide accurate, helpful answers based ONLY on the provided documents.

Key Guidelines:
1. Answer based ONLY on the provided documents - do not use external knowledge
2. If the documents don't contain enough information, say so clearly
3. Cite sources using [Document N] notation where N is the document number
4. Be concise but comprehensive (2-3 paragraphs maximum)
5. If asked about policies, quote relevant sections directly
6. Tailor your response to the user's department and location when relevant
7. Use a professional, helpful tone
8. If multiple documents contain relevant information, synthesize them coherently`

// buildAnswerPrompt assembles the deterministic grounding prompt: system
// instructions, requester context, numbered document blocks in packed order,
// the question, and the citation-format reminder.
func buildAnswerPrompt(query string, requester domain.Requester, packed []domain.Chunk) string {
	var context strings.Builder
	for i, chunk := range packed {
		fmt.Fprintf(&context, "[Document %d: %s (Source: %s)]\n%s\n\n", i+1, chunk.Title, chunk.Source, chunk.Text)
	}

	return fmt.Sprintf(`%s

User Context:
- Name: %s
- Department: %s
- Location: %s

Question: %s

Relevant Documents:
%s
Please provide a helpful answer to the question based on the documents above. Remember to cite sources using [Document N] notation.

Answer:`,
		answerSystemInstructions,
		orUnknown(requester.Username, "User"),
		orUnknown(requester.Department, "Unknown"),
		orUnknown(requester.Country, "Unknown"),
		query,
		context.String(),
	)
}

func orUnknown(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
