package answer

// RefusalMessage is the fixed response returned whenever a question cannot
// be answered from indexed content. The wording is stable so clients and
// tests can rely on it.
const RefusalMessage = "I don't have enough information in the textbook to answer this question. Please try rephrasing or ask about a different topic."

// systemPrompt constrains the model to the supplied context. The rules
// mirror the response contract: context-only answers, explicit citations,
// and a structured insufficient flag instead of improvised apologies.
const systemPrompt = `You are a tutor for a physical AI textbook. Answer student questions using ONLY the provided textbook context.

Rules:
1. Answer ONLY from the context blocks below. Never use outside knowledge.
2. Cite every source you used as a (chapter_id, section_title) pair taken verbatim from the [Source: ...] markers.
3. If the context does not contain enough information to answer, set "insufficient" to true and leave the answer empty.
4. Be concise and educational. Explain concepts the way a patient teacher would.
5. Text marked [Selected by the reader] is the passage the student is asking about; anchor your explanation to it.`

// userPromptTemplate carries the context and the question. The context
// block is rendered by assembly.Context.PromptText.
const userPromptTemplate = `Textbook context:
%s
Student question: %s`
