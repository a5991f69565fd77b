package proposal

// FormatContract describes the proposal format that AI collaborators must
// emit. It is served to MCP clients and used as the system prompt of the
// LLM adapter.
const FormatContract = `# Loom Proposal Format Contract

A proposal describes a block tree for one document plus candidate links
between its nodes. Send it as JSON (YAML is accepted too).

## Structure

` + "```" + `json
{
  "document_id": "doc-123",
  "blocks": [
    {
      "title": "TÍTULO I",
      "content": "Optional body text",
      "type": "title",
      "tags": ["optional"],
      "children": [
        {"title": "CAPÍTULO 1", "children": [
          {"title": "ARTÍCULO 1", "content": "texto"}
        ]}
      ]
    }
  ],
  "links": [
    {"source_index": 2, "target_index": 0, "reason": "cites the title", "confidence": 0.9}
  ]
}
` + "```" + `

## Rules

1. **blocks** is required and non-empty. Every node needs a **title** or **content**.
2. **type** is optional. Allowed values: title, chapter, article, section, paragraph,
   note, synthesis. When omitted it follows the depth: title, chapter, article.
3. Only three levels are imported. Nodes nested deeper are dropped together with
   their children.
4. Every imported node is tagged by depth: TÍTULO, CAPÍTULO, ARTÍCULO.
5. **links** pair nodes by their position in a depth-first pre-order walk of the
   whole tree, starting at 0. Dropped nodes still count toward positions.
6. Links with an index that does not name an imported node are skipped, not rejected.
7. **confidence** is optional, between 0 and 1, default 0.8. Links are stored as
   ` + "`" + `semantic_similarity` + "`" + `.
8. Importing the same proposal twice creates two independent copies.

## Merge responses

When asked to merge blocks, answer with JSON:

` + "```" + `json
{
  "title": "Short title",
  "content": "Merged text",
  "citations": ["block-id-1", "block-id-2"],
  "contribution_percentages": [70, 30],
  "reasoning": "Why the sources were combined this way"
}
` + "```" + `

contribution_percentages follows the order of the sources, each value between 0
and 100, ideally summing to 100.
`
