package main

// sampleDocument is the built-in demo shown by --sample, exercising every
// segment kind the reader narrates.
const sampleDocument = `# Markdown Reader

Welcome! This sample walks through everything the reader can narrate.
Press **space** to start listening, or move the cursor and press enter to
start from a particular block.

## Text and emphasis

Links like [this one](https://example.com) are read by their label, and
*italic*, **bold**, and ` + "`code`" + ` spans are read as plain words.

> Blockquotes are narrated without the quote markers,
> so they sound like ordinary prose.

## Lists

- Navigate with j and k
- Adjust the speed with plus and minus
- Switch voices with v

1. Ordered lists work too
2. Each block is one narration unit

## Tables

| Key   | Action      |
| ----- | ----------- |
| space | play, pause |
| s     | stop        |

![A quiet pause happens here](sample.png)

---

That horizontal rule above was skipped silently. Enjoy!
`
