package lesson

import (
	"fmt"
	"strings"
)

// DefaultTeacherName is used when no persona name is configured.
const DefaultTeacherName = "Miss Smart"

// Persona renders every piece of text that gives the teacher her voice:
// the script-writing prompt, the live conversation instructions, the
// narration style and the fixed greeting and celebration lines.
type Persona struct {
	// Name is how the teacher refers to herself.
	Name string
}

func (p Persona) name() string {
	if p.Name == "" {
		return DefaultTeacherName
	}
	return p.Name
}

// ScriptPrompt builds the generation prompt for unit in mode. The model is
// told to reply with a single JSON object using the [Script] field names.
func (p Persona) ScriptPrompt(grade Grade, unit Unit, mode Mode) string {
	var b strings.Builder
	if mode == ModeImmersion {
		fmt.Fprintf(&b, "You are %q, a warm, playful and patient English teacher for %s children at an Egyptian language school.\n", p.name(), grade)
		b.WriteString("Explain everything in short, simple English sentences only.\n\n")
	} else {
		fmt.Fprintf(&b, "أنتِ %q، معلمة مصرية لطيفة ومرحة لأطفال %s.\n", p.name(), grade)
		b.WriteString("اشرحي بالعامية المصرية وعلّمي الكلمات الإنجليزية بنطق واضح.\n\n")
	}

	fmt.Fprintf(&b, "Unit: %s\n", unit.Title)
	writeList(&b, "Vocabulary", unit.Vocabulary)
	writeList(&b, "Phonics", unit.Phonics)
	writeList(&b, "Math", unit.Math)
	writeList(&b, "Structure", unit.Structure)
	writeList(&b, "Life skills", unit.Skills)

	b.WriteString("\nRules:\n")
	b.WriteString("- Use affectionate nicknames for the child.\n")
	b.WriteString("- Keep each part short enough to read aloud in under a minute.\n")
	b.WriteString("- Practise the structure sentences word for word.\n")
	b.WriteString("- In phonics, say each letter sound before its example words.\n")
	b.WriteString("- The song is always in English.\n")
	if mode == ModeBilingual {
		b.WriteString("- Write every part except the song in Egyptian Arabic, keeping English words in English.\n")
	}
	b.WriteString("\nReply with one JSON object and nothing else. Keys: ")
	b.WriteString(`"warmUp", "vocabulary", "pronunciation", "phonics", "song", "activity", "revision". `)
	b.WriteString("Every value is a non-empty string.\n")
	return b.String()
}

func writeList(b *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "%s: %s\n", label, strings.Join(items, ", "))
}

// LiveInstructions returns the system instructions for a live conversation.
func (p Persona) LiveInstructions(mode Mode) string {
	if mode == ModeImmersion {
		return fmt.Sprintf("You are %s, a cheerful English teacher for kindergarten children. "+
			"Speak only simple, encouraging English. Praise often, answer questions about the "+
			"curriculum words, numbers, shapes and colours, and keep every reply short and fun.", p.name())
	}
	return fmt.Sprintf("أنتِ %s، معلمة مصرية مرحة وذكية لأطفال الحضانة. "+
		"اتكلمي بلهجة مصرية حنينة واستخدمي كلمات تشجيع كتير. "+
		"جاوبي على أسئلة الطفل عن كلمات المنهج والأرقام والألوان بالعربي والإنجليزي، وخلي الردود قصيرة ومرحة.", p.name())
}

// SpeechStyle returns the delivery instructions sent with narration.
func (p Persona) SpeechStyle(mode Mode) string {
	if mode == ModeImmersion {
		return fmt.Sprintf("Read this as %s, a cheerful, clear and kind kindergarten English teacher with an encouraging tone", p.name())
	}
	return fmt.Sprintf("اقرئي النص بصوت %s المصرية الرقيقة والمرحة، الكلمات الإنجليزية بنطق صحيح والعربي بلهجة مصرية لطيفة", p.name())
}

// Greeting is spoken when a child opens the classroom.
func (p Persona) Greeting(mode Mode) string {
	if mode == ModeImmersion {
		return fmt.Sprintf("Hello, my little star! %s is here. Let's learn and play together!", p.name())
	}
	return fmt.Sprintf("أهلاً يا حبيبي! %s وصلت.. يلا نتعلم ونلعب سوا يا بطل!", p.name())
}

// Celebration is spoken after the last stage of a lesson.
func (p Persona) Celebration(mode Mode) string {
	if mode == ModeImmersion {
		return fmt.Sprintf("Excellent! You are a super champion! %s is so proud of you!", p.name())
	}
	return fmt.Sprintf("برافو برافو برافو! إنت أشطر بطل! %s فخورة بيك جداً!", p.name())
}
