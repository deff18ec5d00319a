// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package planner

import "strings"

// heuristics map instruction tags to trigger keywords, in declaration
// order. The first maxInstructions matches win.
var heuristics = []struct {
	tag      string
	keywords []string
}{
	{"presentation", []string{"presentation", "slide", "deck", "pitch", "ppt", "keynote"}},
	{"document_creation", []string{"document", "report", "pdf", "write up", "whitepaper"}},
	{"research", []string{"research", "analyze", "analysis", "investigate", "study"}},
	{"visualization", []string{"chart", "graph", "visualization", "plot", "infographic"}},
	{"web_development", []string{"website", "web app", "frontend", "react", "deploy website"}},
}

// fallbackPlan synthesizes a plan from keyword matching over the
// lowercased user request: no artifacts, no project summary.
func (p *Planner) fallbackPlan(userRequest string) *ContextPlan {
	return &ContextPlan{
		InstructionTags: p.heuristicTags(userRequest),
		Reasoning:       FallbackReasoning,
	}
}

func (p *Planner) heuristicTags(userRequest string) []string {
	if userRequest == "" {
		return nil
	}
	message := strings.ToLower(userRequest)
	var selected []string
	for _, h := range heuristics {
		if len(selected) >= p.maxInstructions {
			break
		}
		for _, keyword := range h.keywords {
			if strings.Contains(message, keyword) {
				selected = append(selected, h.tag)
				break
			}
		}
	}
	return selected
}
