package main

import (
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"slices"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
)

const mediumBaseURL = "https://medium.com"

// errNoArticle is the fixed failure message when a page has no article body.
const errNoArticle = "Error: No article found on the page."

var (
	nonWordRe    = regexp.MustCompile(`[^\p{L}\p{N}_\s-]`)
	whitespaceRe = regexp.MustCompile(`\s+`)

	escapedPunctRe   = regexp.MustCompile(`\\([^a-zA-Z0-9\s])`)
	openBracketNLRe  = regexp.MustCompile(`\[\n+`)
	closeBracketNLRe = regexp.MustCompile(`\n+\]\(`)
	emptyLabelRe     = regexp.MustCompile(`\[\]\(`)
	fenceBeforeRe    = regexp.MustCompile("([^\n])```")
	fenceAfterRe     = regexp.MustCompile("```([^\n])")
	loneFenceRe      = regexp.MustCompile("^\\s*`+\\s*$")
	excessBlankRe    = regexp.MustCompile(`\n{3,}`)
)

// normalizeTitle reduces a title to a filename-safe token: punctuation is
// stripped and whitespace runs collapse to single hyphens.
func normalizeTitle(title string) string {
	title = strings.TrimSpace(title)
	title = nonWordRe.ReplaceAllString(title, "")
	title = whitespaceRe.ReplaceAllString(title, "-")
	return title
}

// Parser converts a Medium article page into normalized Markdown plus a
// cleaned title. Convert is a pure function of its inputs; a fresh document
// is built per call.
type Parser struct {
	conv *md.Converter
}

// NewParser creates a parser with the Medium-specific conversion rules
// registered.
func NewParser() *Parser {
	conv := md.NewConverter("", true, nil)
	conv.AddRules(conversionRules()...)
	return &Parser{conv: conv}
}

// pickBestSrc chooses the last candidate of a srcset and returns its URL
// part. Responsive orderings list the highest resolution last.
func pickBestSrc(srcset string) string {
	var last string
	for _, c := range strings.Split(srcset, ",") {
		if c = strings.TrimSpace(c); c != "" {
			last = c
		}
	}
	if last == "" {
		return ""
	}
	parts := strings.Fields(last)
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

// bestImageSrc resolves the single best image URL for a figure or picture
// element: a <source srcset> wins, then a nested <img src>, then its srcset.
func bestImageSrc(selec *goquery.Selection) string {
	if srcset, ok := selec.Find("source").First().Attr("srcset"); ok && srcset != "" {
		if src := pickBestSrc(srcset); src != "" {
			return src
		}
	}
	img := selec.Find("img").First()
	if img.Length() > 0 {
		if src, ok := img.Attr("src"); ok && src != "" {
			return src
		}
		if srcset, ok := img.Attr("srcset"); ok && srcset != "" {
			return pickBestSrc(srcset)
		}
	}
	return ""
}

// conversionRules returns the element-specific overrides applied on top of
// the stock converter.
func conversionRules() []md.Rule {
	return []md.Rule{
		{
			// Preformatted blocks become fenced code blocks verbatim.
			Filter: []string{"pre"},
			Replacement: func(content string, selec *goquery.Selection, opt *md.Options) *string {
				return md.String("```\n" + selec.Text() + "\n```")
			},
		},
		{
			Filter: []string{"br"},
			Replacement: func(content string, selec *goquery.Selection, opt *md.Options) *string {
				return md.String("\n")
			},
		},
		{
			// Inline links with relative hrefs rewritten absolute and the
			// title attribute preserved.
			Filter: []string{"a"},
			Replacement: func(content string, selec *goquery.Selection, opt *md.Options) *string {
				href, ok := selec.Attr("href")
				if !ok || href == "" {
					return md.String(content)
				}
				if strings.HasPrefix(href, "/") {
					href = mediumBaseURL + href
				}
				titlePart := ""
				if title, ok := selec.Attr("title"); ok && title != "" {
					titlePart = fmt.Sprintf(" %q", title)
				}
				return md.String(fmt.Sprintf("[%s](%s%s)", content, href, titlePart))
			},
		},
		{
			// Figures resolve to their best image candidate with the
			// caption preserved as alt text.
			Filter: []string{"figure"},
			Replacement: func(content string, selec *goquery.Selection, opt *md.Options) *string {
				caption := strings.TrimSpace(selec.Find("figcaption").First().Text())
				if src := bestImageSrc(selec); src != "" {
					return md.String(fmt.Sprintf("![%s](%s)", caption, src))
				}
				return md.String(fmt.Sprintf("<b>[other]%s[/other]</b>", caption))
			},
		},
		{
			Filter: []string{"picture"},
			Replacement: func(content string, selec *goquery.Selection, opt *md.Options) *string {
				src := ""
				if srcset, ok := selec.Attr("srcset"); ok && srcset != "" {
					src = pickBestSrc(srcset)
				}
				if src == "" {
					src = bestImageSrc(selec)
				}
				if src == "" {
					return md.String("")
				}
				alt, _ := selec.Find("img").First().Attr("alt")
				return md.String(fmt.Sprintf("![%s](%s)", alt, src))
			},
		},
		{
			Filter: []string{"img"},
			Replacement: func(content string, selec *goquery.Selection, opt *md.Options) *string {
				src, _ := selec.Attr("src")
				if src == "" {
					if srcset, ok := selec.Attr("srcset"); ok && srcset != "" {
						src = pickBestSrc(srcset)
					}
				}
				if src == "" {
					return md.String("")
				}
				alt, _ := selec.Attr("alt")
				return md.String(fmt.Sprintf("![%s](%s)", alt, src))
			},
		},
		{
			// Embedded frames pass through as opaque markup.
			Filter: []string{"iframe"},
			Replacement: func(content string, selec *goquery.Selection, opt *md.Options) *string {
				outer, err := goquery.OuterHtml(selec)
				if err != nil {
					return md.String("")
				}
				return md.String(outer)
			},
		},
	}
}

// Convert turns raw article HTML into a ParseResult. Failures are always
// captured into the result; no partial output is ever returned.
func (p *Parser) Convert(htmlText, sourceURL string) (result ParseResult) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprint(r)
			if msg == "" {
				msg = "Error parsing the article"
			}
			result = parseFailure(msg)
		}
	}()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlText))
	if err != nil {
		return parseFailure(err.Error())
	}
	article := doc.Find("article").First()
	if article.Length() == 0 {
		return parseFailure(errNoArticle)
	}

	h1 := article.Find("h1").First()
	title := ""
	if content, ok := doc.Find("meta[name='title']").First().Attr("content"); ok {
		title = strings.TrimSpace(content)
	}
	if title == "" && h1.Length() > 0 {
		title = strings.TrimSpace(h1.Text())
	}
	if title == "" {
		title = "Untitled-Article-Title-" + uuid.NewString()
	}
	title = normalizeTitle(title)

	author, authorURL := extractAuthor(doc, article)

	// The third element child of the speechify wrapper is an interstitial
	// widget, not content.
	if wrapper := doc.Find("div.speechify-ignore.ab.cp").First(); wrapper.Length() > 0 {
		if kids := wrapper.Children(); kids.Length() >= 3 {
			kids.Eq(2).Remove()
		}
	}

	doc.Find("a").Each(func(_ int, s *goquery.Selection) {
		s.SetAttr("target", "_blank")
	})

	// Relocate the lead image to immediately follow the title, then inject
	// the reference block pointing back at the source.
	mainFigure := doc.Find("figure.paragraph-image").First()
	if mainFigure.Length() > 0 && h1.Length() > 0 {
		h1.AfterSelection(mainFigure)
	}
	insertAfter := h1
	if mainFigure.Length() > 0 {
		insertAfter = mainFigure
	}
	if insertAfter.Length() > 0 {
		insertAfter.AfterHtml(fmt.Sprintf(
			`<p><br/></p><p><a href="%s" target="_blank">Reference</a></p><p><br/></p>`,
			html.EscapeString(sourceURL),
		))
	}

	stripNonContent(doc)

	raw := p.conv.Convert(article)
	cleaned := cleanMarkdown(raw)

	return parseSuccess(title, cleaned, author, authorURL)
}

// extractAuthor resolves the author name and profile URL through an ordered
// fallback chain: JSON-LD metadata, the author meta tag, the authorName
// element, then the first non-empty byline link. Each source is independent;
// a failing source just defers to the next one.
func extractAuthor(doc *goquery.Document, article *goquery.Selection) (string, string) {
	name, profile := authorFromJSONLD(doc)

	if name == "" {
		meta := doc.Find("meta[name='author']").First()
		if meta.Length() == 0 {
			meta = doc.Find("meta[property='author']").First()
		}
		if content, ok := meta.Attr("content"); ok {
			name = strings.TrimSpace(content)
		}
	}

	if name == "" || profile == "" {
		el := doc.Find("[data-testid='authorName']").First()
		if el.Length() > 0 {
			if text := strings.TrimSpace(el.Text()); text != "" {
				if name == "" {
					name = text
				}
				if href, ok := el.Attr("href"); ok && profile == "" {
					profile = href
				}
			}
		}
	}

	if name == "" || profile == "" {
		anchor := firstBylineAnchor(article.Find("header").First())
		if anchor == nil {
			anchor = firstBylineAnchor(doc.Selection)
		}
		if anchor != nil {
			if name == "" {
				name = strings.TrimSpace(anchor.Text())
			}
			if profile == "" {
				profile, _ = anchor.Attr("href")
			}
		}
	}

	if strings.HasPrefix(profile, "/") {
		profile = mediumBaseURL + profile
	}
	if name == "" {
		name = "Unknown Author"
	}
	if profile == "" {
		profile = "#"
	}
	return name, profile
}

// authorFromJSONLD scans structured metadata blocks for an author object.
func authorFromJSONLD(doc *goquery.Document) (name, profile string) {
	doc.Find(`script[type='application/ld+json']`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		if text == "" {
			return true
		}
		var decoded any
		if err := json.Unmarshal([]byte(text), &decoded); err != nil {
			return true
		}
		entries, ok := decoded.([]any)
		if !ok {
			entries = []any{decoded}
		}
		for _, entry := range entries {
			obj, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			auth := obj["author"]
			if list, ok := auth.([]any); ok && len(list) > 0 {
				auth = list[0]
			}
			authObj, ok := auth.(map[string]any)
			if !ok {
				continue
			}
			if name == "" {
				if n, ok := authObj["name"].(string); ok {
					name = strings.TrimSpace(n)
				}
			}
			if profile == "" {
				if u, ok := authObj["url"].(string); ok {
					profile = u
				}
			}
			if name != "" && profile != "" {
				break
			}
		}
		return name == "" || profile == ""
	})
	return name, profile
}

// firstBylineAnchor returns the first profile link under root with non-empty
// text, or nil.
func firstBylineAnchor(root *goquery.Selection) *goquery.Selection {
	var anchor *goquery.Selection
	if root == nil || root.Length() == 0 {
		return nil
	}
	root.Find(`a[href^='/@']`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.TrimSpace(s.Text()) != "" {
			anchor = s
			return false
		}
		return true
	})
	return anchor
}

// stripNonContent removes the interstitial and chrome elements Medium mixes
// into the article markup.
func stripNonContent(doc *goquery.Document) {
	removeWithParent := func(selector, parent string) {
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			if p := s.ParentsFiltered(parent).First(); p.Length() > 0 {
				p.Remove()
			} else {
				s.Remove()
			}
		})
	}

	removeWithParent(`img[data-testid='authorPhoto']`, "a")
	removeWithParent(`img[data-testid='publicationPhoto']`, "a")
	doc.Find(`a[href*='/m/signin']`).Remove()
	removeWithParent(`[data-testid='publicationName']`, "div")
	removeWithParent(`[data-testid='storyReadTime']`, "span")
	removeWithParent(`[data-testid='storyPublishDate']`, "span")
	doc.Find(`[data-testid='authorName']`).Remove()
	doc.Find(`[data-testid='headerClapButton']`).Remove()

	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "·" || text == "" {
			s.Remove()
		}
	})
}

// boilerplateLines are dropped when they appear near the top of the
// document, where Medium renders its page chrome.
var boilerplateLines = map[string]bool{
	"·":            true,
	"Published in": true,
	"--":           true,
	"1":            true,
	"Listen":       true,
	"Share":        true,
}

// cleanMarkdown applies the normalization passes, in order, to the raw
// converter output.
func cleanMarkdown(markdown string) string {
	// Un-escape backslash-escaped punctuation and repair link syntax the
	// tree conversion may have split across lines.
	markdown = escapedPunctRe.ReplaceAllString(markdown, "$1")
	markdown = openBracketNLRe.ReplaceAllString(markdown, "[")
	markdown = closeBracketNLRe.ReplaceAllString(markdown, "](")
	markdown = emptyLabelRe.ReplaceAllString(markdown, "[ ](")

	// Boilerplate only gets dropped within the first 40 lines so body text
	// that happens to match survives.
	lines := strings.Split(markdown, "\n")
	filtered := lines[:0]
	for idx, line := range lines {
		if idx < 40 && boilerplateLines[strings.TrimSpace(line)] {
			continue
		}
		filtered = append(filtered, line)
	}
	markdown = strings.Join(filtered, "\n")

	markdown = normalizeFences(markdown)
	markdown = balanceFences(markdown)
	markdown = mergeEmailHeaderBlock(markdown)

	markdown = excessBlankRe.ReplaceAllString(markdown, "\n\n")
	return markdown
}

// normalizeFences puts every fence on its own line, canonicalizes any line
// of only backticks to a 3-backtick fence, and drops a fence directly
// following another.
func normalizeFences(markdown string) string {
	markdown = fenceBeforeRe.ReplaceAllString(markdown, "$1\n```")
	markdown = fenceAfterRe.ReplaceAllString(markdown, "```\n$1")

	var out []string
	for _, line := range strings.Split(markdown, "\n") {
		if loneFenceRe.MatchString(line) {
			line = "```"
			if len(out) > 0 && out[len(out)-1] == "```" {
				continue
			}
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// balanceFences tracks open/close state across the text, separates fence
// boundaries with blank lines, and closes a fence left dangling at the end.
func balanceFences(markdown string) string {
	fenceOpen := false
	var out []string
	for _, line := range strings.Split(markdown, "\n") {
		if line == "```" {
			if !fenceOpen {
				if len(out) > 0 && strings.TrimSpace(out[len(out)-1]) != "" {
					out = append(out, "")
				}
				out = append(out, "```")
				fenceOpen = true
			} else {
				out = append(out, "```", "")
				fenceOpen = false
			}
			continue
		}
		out = append(out, line)
	}
	for len(out) > 0 && strings.TrimSpace(out[len(out)-1]) == "" {
		out = out[:len(out)-1]
	}
	if fenceOpen {
		out = append(out, "```")
	}
	return strings.Join(out, "\n")
}

// mergeEmailHeaderBlock joins a code block that looks like an email header
// with the code block that follows it when only blank lines separate them.
func mergeEmailHeaderBlock(markdown string) string {
	lines := strings.Split(markdown, "\n")
	i := 0
	for i < len(lines)-3 {
		if strings.TrimSpace(lines[i]) != "```" || !strings.HasPrefix(strings.TrimLeft(lines[i+1], " \t"), "From:") {
			i++
			continue
		}
		j := i + 2
		for j < len(lines) && strings.TrimSpace(lines[j]) != "```" {
			j++
		}
		if j >= len(lines) {
			break
		}
		k := j + 1
		for k < len(lines) && strings.TrimSpace(lines[k]) == "" {
			k++
		}
		m := k
		for m < len(lines) && strings.TrimSpace(lines[m]) != "```" {
			m++
		}
		if k >= m {
			i++
			continue
		}
		lines = slices.Delete(lines, j, j+1)
		m--
		if j < len(lines) && strings.TrimSpace(lines[j]) != "" {
			lines = slices.Insert(lines, j, "")
			m++
		}
		if !(m < len(lines) && strings.TrimSpace(lines[m]) == "```") {
			lines = slices.Insert(lines, m, "```")
		}
		i = m + 1
	}
	return strings.Join(lines, "\n")
}
