// Package selection implements the Selection workflow: pick a sample image
// from the dataset for each of a task's test cases and record it as the
// case's test data.
package selection

import (
	"regexp"
	"strconv"
	"strings"
)

var labelFilePattern = regexp.MustCompile(`(\S+\.xml|\S+\.json|\S+\.txt)$`)

// parseLabelFiles extracts label file names from a directory-listing-style
// string, one match per line, mirroring
// original_source/agents/select_agent.py's parse_label_files.
func parseLabelFiles(content string) []string {
	var files []string
	for _, line := range strings.Split(content, "\n") {
		if m := labelFilePattern.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			files = append(files, m[1])
		}
	}
	return files
}

var (
	xmlContentMarkers  = []string{"<annotation>", "<object>", "<name>", "<bndbox>"}
	jsonContentMarkers = []string{`"bbox":`, `"category_id":`, `"segmentation":`}
	fileListMarkers    = []string{"Annotations", "Images", ".xml", ".json", ".txt"}
)

// isFileContent decides whether a sandbox command's output is the actual
// contents of a label file, as opposed to just a directory listing of label
// file names. It follows the original's three-step heuristic: known
// annotation markup, known JSON annotation keys, then a listing shape
// check, falling back to a length threshold.
func isFileContent(content string) bool {
	for _, m := range xmlContentMarkers {
		if strings.Contains(content, m) {
			return true
		}
	}
	for _, m := range jsonContentMarkers {
		if strings.Contains(content, m) {
			return true
		}
	}

	lines := strings.Split(strings.TrimSpace(content), "\n")
	if len(lines) < 20 {
		allListingLines := true
		for _, line := range lines {
			matched := false
			for _, m := range fileListMarkers {
				if strings.Contains(line, m) {
					matched = true
					break
				}
			}
			if !matched {
				allListingLines = false
				break
			}
		}
		if allListingLines {
			return false
		}
	}

	return len(content) > 1000
}

var annotationBlockPattern = regexp.MustCompile(`(?s)<annotation>.*?</annotation>`)
var filenamePattern = regexp.MustCompile(`<filename>(.*?)</filename>`)

// organizeLabelContent regroups a blob of concatenated XML annotations by
// the <filename> each one names, so the LLM sees one coherent block per
// image instead of an arbitrary concatenation order. Non-XML content is
// returned unchanged, matching the original's no-op fallback.
func organizeLabelContent(content string) string {
	if !strings.Contains(content, "<annotation>") {
		return content
	}

	annotations := annotationBlockPattern.FindAllString(content, -1)
	if len(annotations) == 0 {
		return content
	}

	order := make([]string, 0)
	byFile := make(map[string][]string)
	for _, ann := range annotations {
		m := filenamePattern.FindStringSubmatch(ann)
		if m == nil {
			continue
		}
		filename := m[1]
		if _, seen := byFile[filename]; !seen {
			order = append(order, filename)
		}
		byFile[filename] = append(byFile[filename], ann)
	}

	var sb strings.Builder
	sb.WriteString("# 标签内容按文件名整理\n\n")
	for _, filename := range order {
		sb.WriteString("## 文件: " + filename + "\n\n")
		for i, ann := range byFile[filename] {
			sb.WriteString("### 标注 ")
			sb.WriteString(strconv.Itoa(i + 1))
			sb.WriteString("\n```xml\n")
			sb.WriteString(ann)
			sb.WriteString("\n```\n\n")
		}
	}
	return sb.String()
}
