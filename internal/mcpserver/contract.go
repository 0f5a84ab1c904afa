package mcpserver

// PolicyDescription explains to LLM consumers how veil decides whether a note
// renders plainly or obscured.
const PolicyDescription = `# veil Visibility Policy

veil obscures note content in open panels. One global **level** is active
at a time:

| level | effect |
|---|---|
| ` + "`hide-all`" + ` | every panel is obscured |
| ` + "`hide-private`" + ` | only private notes are obscured (default) |
| ` + "`reveal-all`" + ` | nothing is obscured |
| ` + "`reveal-headlines`" + ` | note bodies are obscured, headings stay readable |

## Rules

Under ` + "`hide-private`" + ` a note panel is evaluated in order; the first match wins:

1. Panels that do not show a note (graph, search, outline) are never obscured.
2. If ` + "`privateNoteMarker`" + ` is set and the note has **any** tags, the note is
   obscured only when the marker is among them. A tagged note is **not**
   affected by the directory rule, even inside a private directory.
3. If the note's folder starts with one of ` + "`privateDirs`" + `, it is obscured.
4. Otherwise it is shown.

Tags come from the note body (` + "`#tag`" + `) and from the frontmatter ` + "`tags`" + ` field;
both are compared in ` + "`#tag`" + ` form.

## Idle lock

When ` + "`blurOnIdleTimeoutSeconds`" + ` is zero or more, the level switches to
` + "`hide-all`" + ` after that many seconds without pointer or key activity.

## Not a security boundary

Obscured content is still present in the vault and in memory. veil only
keeps it from being read over someone's shoulder.
`
